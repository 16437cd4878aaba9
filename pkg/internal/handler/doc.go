// Package handler provides internal reflection-based handler execution.
//
// This package is internal and should not be imported directly.
// It validates handler signatures at registration time and runs them
// against raw payload bytes using the queue's codec.
package handler
