// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

// ConfigurationOption is one named option contributed by an architecture
// or a loader. Concrete options are NamedBool, NamedEnum and NamedString;
// consumers dispatch by type switch.
type ConfigurationOption interface {
	OptionName() string
}

// NamedBool is a boolean toggle.
type NamedBool struct {
	Name    string
	Default bool
}

// OptionName implements ConfigurationOption.
func (o NamedBool) OptionName() string { return o.Name }

// NamedEnum is a discrete choice among labeled values.
type NamedEnum struct {
	Name    string
	Values  map[string]uint32
	Default uint32
}

// OptionName implements ConfigurationOption.
func (o NamedEnum) OptionName() string { return o.Name }

// NamedString is a free text option.
type NamedString struct {
	Name    string
	Default string
}

// OptionName implements ConfigurationOption.
func (o NamedString) OptionName() string { return o.Name }

// ConfigurationModel is the ordered list of options a provider exposes.
type ConfigurationModel struct {
	options []ConfigurationOption
}

// AddOption appends an option to the model.
func (m *ConfigurationModel) AddOption(opt ConfigurationOption) {
	m.options = append(m.options, opt)
}

// Options returns the declared options in declaration order.
func (m *ConfigurationModel) Options() []ConfigurationOption {
	return m.options
}

// Configuration builds a flat name to value mapping holding every option
// default.
func (m *ConfigurationModel) Configuration() *Configuration {
	cfg := &Configuration{values: make(map[string]interface{}, len(m.options))}
	for _, opt := range m.options {
		switch o := opt.(type) {
		case NamedBool:
			cfg.values[o.Name] = o.Default
		case NamedEnum:
			cfg.values[o.Name] = o.Default
		case NamedString:
			cfg.values[o.Name] = o.Default
		}
	}
	return cfg
}

// Configuration is a flat option name to value mapping. Setting an
// unknown name is silently ignored; setting a known name to a value of
// another kind is rejected.
type Configuration struct {
	values map[string]interface{}
}

// NewConfiguration returns an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{values: make(map[string]interface{})}
}

// SetBool sets a boolean option.
func (c *Configuration) SetBool(name string, v bool) error {
	return c.set(name, v)
}

// SetEnum sets an enum option.
func (c *Configuration) SetEnum(name string, v uint32) error {
	return c.set(name, v)
}

// SetString sets a string option.
func (c *Configuration) SetString(name string, v string) error {
	return c.set(name, v)
}

func (c *Configuration) set(name string, v interface{}) error {
	current, ok := c.values[name]
	if !ok {
		// Unknown names are ignored so a configuration written for a
		// newer provider still loads.
		return nil
	}
	switch current.(type) {
	case bool:
		if _, ok := v.(bool); !ok {
			return ErrInvalidConfiguration
		}
	case uint32:
		if _, ok := v.(uint32); !ok {
			return ErrInvalidConfiguration
		}
	case string:
		if _, ok := v.(string); !ok {
			return ErrInvalidConfiguration
		}
	}
	c.values[name] = v
	return nil
}

// Bool returns a boolean option value.
func (c *Configuration) Bool(name string) bool {
	v, _ := c.values[name].(bool)
	return v
}

// Enum returns an enum option value.
func (c *Configuration) Enum(name string) uint32 {
	v, _ := c.values[name].(uint32)
	return v
}

// String returns a string option value.
func (c *Configuration) String(name string) string {
	v, _ := c.values[name].(string)
	return v
}
