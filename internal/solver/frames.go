package solver

// frameStack tracks the transform sub-problems currently being solved.
//
// Cycles occur when a transform's requirement can only be produced by a
// transform that (transitively) requires the first transform's output:
//
//	solve(x <- c)  needs c  -> solve(c <- b)  needs b  -> solve(b <- c) ...
//
// A sub-problem whose signature is already on the stack is a cycle and
// yields no solutions on this branch. Every frame records the shallowest
// frame a cycle or the horizon cut it at. A frame cut above itself has a
// result that depends on the path taken to reach it and must not be
// memoized: the same sub-problem reached along a different branch may find
// routes this one could not.
//
// The stack depth doubles as the recursion horizon.
type frameStack struct {
	frames []frame
	active map[string]int
}

type frame struct {
	sig string
	low int // shallowest depth cut at within this frame
}

func newFrameStack() *frameStack {
	return &frameStack{active: make(map[string]int)}
}

// WouldCycle reports whether sig is already being solved higher up.
func (f *frameStack) WouldCycle(sig string) bool {
	_, ok := f.active[sig]
	return ok
}

// CutCycle records that the innermost frame was cut at the open frame for
// sig.
func (f *frameStack) CutCycle(sig string) {
	if depth, ok := f.active[sig]; ok {
		f.cut(depth)
	}
}

// CutHorizon records that the innermost frame was cut by the horizon. The
// horizon depends on the whole stack, so the cut reaches the root.
func (f *frameStack) CutHorizon() {
	f.cut(0)
}

func (f *frameStack) cut(depth int) {
	if len(f.frames) == 0 {
		return
	}
	top := &f.frames[len(f.frames)-1]
	top.low = min(top.low, depth)
}

// Complete reports whether the innermost frame's outcome is independent of
// the frames above it.
func (f *frameStack) Complete() bool {
	top := len(f.frames) - 1
	return f.frames[top].low >= top
}

// Push enters a sub-problem.
func (f *frameStack) Push(sig string) {
	depth := len(f.frames)
	f.frames = append(f.frames, frame{sig: sig, low: depth})
	f.active[sig] = depth
}

// Pop leaves the innermost sub-problem, passing its cuts to the parent.
func (f *frameStack) Pop() {
	top := f.frames[len(f.frames)-1]
	f.frames = f.frames[:len(f.frames)-1]
	delete(f.active, top.sig)
	f.cut(top.low)
}

// Depth returns the number of open frames.
func (f *frameStack) Depth() int {
	return len(f.frames)
}
