// Package tools runs host commands for handlers that need an external
// program, such as screen capture.
package tools
