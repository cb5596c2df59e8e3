// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package inflate

// ZlibHeader reports the raw CMF/FLG bytes once they have been read
// (both zero before that point).
func (s *State) ZlibHeader() (cmf, flg byte) { return s.cmf, s.flg }

// DeclaredAdler32 reports the trailer checksum once it has been read,
// along with whether it has been read yet.
func (s *State) DeclaredAdler32() (value uint32, read bool) {
	return s.declaredAdler, s.adlerHave == 4
}

// Done reports whether the state machine has reached the end of the
// stream (StatusDone would be returned on the next call).
func (s *State) Done() bool { return s.st == mDone }
