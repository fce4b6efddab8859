// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package log

// FilterOption is a filter option.
type FilterOption func(*Filter)

// FilterLevel drops records below the given level.
func FilterLevel(level Level) FilterOption {
	return func(opts *Filter) {
		opts.level = level
	}
}

// FilterKey drops records carrying one of the given keys.
func FilterKey(key ...string) FilterOption {
	return func(o *Filter) {
		for _, v := range key {
			o.key[v] = struct{}{}
		}
	}
}

// FilterFunc installs a custom filter predicate.
func FilterFunc(f func(level Level, keyvals ...interface{}) bool) FilterOption {
	return func(o *Filter) {
		o.filter = f
	}
}

// Filter is a level and key filter in front of another Logger.
type Filter struct {
	logger Logger
	level  Level
	key    map[interface{}]struct{}
	filter func(level Level, keyvals ...interface{}) bool
}

// NewFilter wraps a logger with filter options.
func NewFilter(logger Logger, opts ...FilterOption) *Filter {
	options := Filter{
		logger: logger,
		key:    make(map[interface{}]struct{}),
	}
	for _, o := range opts {
		o(&options)
	}
	return &options
}

// Log filters then forwards the record.
func (f *Filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	if f.filter != nil && f.filter(level, keyvals...) {
		return nil
	}
	if len(f.key) > 0 {
		for i := 0; i < len(keyvals); i += 2 {
			if _, ok := f.key[keyvals[i]]; ok {
				return nil
			}
		}
	}
	return f.logger.Log(level, keyvals...)
}
