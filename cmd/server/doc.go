// Package main is the entry point for the mendbox MCP server.
//
// Mendbox is a self-healing code execution engine exposed over the Model
// Context Protocol (MCP). Code is screened by a security gate, executed on
// one of three backends (container, local subprocess, remote sandbox API),
// and failing code can be repaired through a bounded debug loop driven by an
// external code producer.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
