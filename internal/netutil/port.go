// Package netutil picks a listen address for the session API.
package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoBindAddr is returned when neither the preferred address nor any
// fallback can be bound.
var ErrNoBindAddr = errors.New("no available api bind addresses")

// Listen binds preferred, or the first free fallback when autoFallback is set.
// Returning the listener itself avoids a check-then-bind race.
func Listen(preferred string, fallbacks []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
		slog.Warn("Preferred bind address unavailable, trying fallbacks", "addr", preferred, "error", err)
	}

	for _, addr := range fallbacks {
		if addr == preferred {
			continue
		}
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		slog.Debug("Fallback bind address unavailable", "addr", addr, "error", err)
	}
	return nil, ErrNoBindAddr
}

// SelectBindAddr picks an available bind address without holding it.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	ln, err := Listen(preferred, candidates, autoFallback)
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		return "", err
	}
	return addr, nil
}
