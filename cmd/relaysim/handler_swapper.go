package main

import (
	"net/http"
	"sync/atomic"
)

// handlerSwapper keeps the listener up while serve replaces the panel after a
// settings reload. In-flight requests finish on the handler they started on.
type handlerSwapper struct {
	current atomic.Pointer[http.Handler]
}

func newHandlerSwapper(h http.Handler) *handlerSwapper {
	s := &handlerSwapper{}
	s.Swap(h)
	return s
}

func (s *handlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}

func (s *handlerSwapper) Swap(h http.Handler) {
	s.current.Store(&h)
}
