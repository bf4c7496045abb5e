// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"
	"time"
)

func TestSpinnerStartStop(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityFull)

	s := NewSpinner("waiting on the provider")
	s.Start()
	time.Sleep(120 * time.Millisecond)
	s.UpdateMessage("still waiting")

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestSpinnerMachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityMachine)

	// Machine mode prints once and never animates; Stop must still return.
	s := NewSpinner("indexing")
	s.Start()
	s.Stop()
}

func TestSpinnerStopWithoutStart(t *testing.T) {
	s := NewSpinner("never started")
	s.Stop()
}

func TestSpinnerDoubleStart(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityFull)

	s := NewSpinner("one goroutine only")
	s.Start()
	s.Start()
	s.Stop()
}
