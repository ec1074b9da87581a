package eventbus

import "errors"

// ErrClosed возвращается при работе с закрытой шиной
var ErrClosed = errors.New("eventbus: closed")
