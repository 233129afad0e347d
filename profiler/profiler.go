// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package profiler defines the interface through which the draw pipeline
// reports timing spans and noteworthy events, such as buffer growth.
package profiler

type ProfilerGroup interface {
	Start(label string) ProfilerGroup
	// Event records a point event with an associated quantity, for example
	// the number of elements a buffer had to grow by.
	Event(label string, n int64)
	End()
}

// Nop returns a profiler group that discards all data. The returned group is
// safe for concurrent use.
func Nop() ProfilerGroup { return nopGroup{} }

type nopGroup struct{}

func (nopGroup) Start(string) ProfilerGroup { return nopGroup{} }
func (nopGroup) Event(string, int64)        {}
func (nopGroup) End()                       {}
