// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package log defines the logging interface used throughout the gateway.
package log

// Fielder is the interface for anything that can have fields.
type Fielder interface {
	Fields() map[string]interface{}
}

// Interface is the interface for logging.
type Interface interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Debugf(msg string, v ...interface{})
	Infof(msg string, v ...interface{})
	Warnf(msg string, v ...interface{})
	Errorf(msg string, v ...interface{})
	Fatalf(msg string, v ...interface{})
	WithField(string, interface{}) Interface
	WithFields(Fielder) Interface
	WithError(error) Interface
}

// F is a set of log fields.
type F map[string]interface{}

// Fields implements Fielder.
func (f F) Fields() map[string]interface{} {
	return f
}

// Merge returns a new F holding the fields of f overwritten by the fields of other.
func (f F) Merge(other Fielder) F {
	merged := make(F, len(f))
	for k, v := range f {
		merged[k] = v
	}
	if other != nil {
		for k, v := range other.Fields() {
			merged[k] = v
		}
	}
	return merged
}

// Fields returns a Fielder
func Fields(f map[string]interface{}) Fielder { return F(f) }
