// Package tlsroots builds client TLS configurations from PEM files, for
// connections to the coordination service.
package tlsroots
