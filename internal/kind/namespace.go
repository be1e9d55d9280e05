package kind

// keyAlphabet is the 64-symbol vocabulary keys are written in.
const keyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

// keyWidth is fixed so concatenated keys never collide in signatures.
const keyWidth = 5

// maxKeys is the number of distinct keys a Namespace can hand out.
const maxKeys = 1 << (6 * keyWidth)

// Namespace generates unique short keys for nodes and transforms.
//
// One Namespace is created per resolution or run context and passed to every
// constructor. Keys are only unique within their Namespace.
//
// Thread-safety: Namespace is NOT safe for concurrent use. The resolver is
// single-threaded by contract.
type Namespace struct {
	last int
}

// NewNamespace creates an empty namespace. The first key it returns is "10000".
func NewNamespace() *Namespace {
	return &Namespace{}
}

// NewKey returns the next unique key.
//
// Panics if the namespace is exhausted, which means a runaway planner
// allocated over a billion nodes.
func (ns *Namespace) NewKey() string {
	ns.last++
	n := ns.last
	if n >= maxKeys {
		panic("kind: namespace exhausted")
	}

	buf := make([]byte, keyWidth)
	for i := range buf {
		buf[i] = keyAlphabet[0]
	}
	// little-endian base-64
	for i := 0; n > 0 && i < keyWidth; i++ {
		buf[i] = keyAlphabet[n%len(keyAlphabet)]
		n /= len(keyAlphabet)
	}
	return string(buf)
}

// Issued returns how many keys have been handed out.
func (ns *Namespace) Issued() int {
	return ns.last
}
