// Package reinstall keeps the installed plugin set in line with a named set
// that changes at runtime, either pushed over a channel or polled.
package reinstall
