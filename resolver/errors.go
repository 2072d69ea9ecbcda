package resolver

import "errors"

var errNilScope = errors.New("resolver: backend returned nil scope")
