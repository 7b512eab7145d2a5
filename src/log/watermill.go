package log

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-logr/logr"
)

type watermillAdapter struct {
	l logr.Logger
}

// Watermill returns a watermill.LoggerAdapter that writes through the global logger.
func Watermill() watermill.LoggerAdapter {
	return &watermillAdapter{l: logger.WithName("watermill")}
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(err, msg, flatten(fields)...)
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(msg, flatten(fields)...)
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.V(1).Info(msg, flatten(fields)...)
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.V(2).Info(msg, flatten(fields)...)
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{l: a.l.WithValues(flatten(fields)...)}
}

func flatten(fields watermill.LogFields) []interface{} {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}
