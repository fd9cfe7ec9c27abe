package plugin

// Verifier symbol names. A configured verifier must export all three.
const (
	VerificationInit    = "verificationInit"
	VerificationDisplay = "verificationDisplay"
	VerificationClose   = "verificationClose"

	verifyHookSignature = "func(size, elemSize int, vecs [][]byte) error"
)

// Verifier checks kernel output once, before measurements start. Init sees
// the vectors before the kernel runs and Display after.
type Verifier interface {
	Init(size, elemSize int, vecs [][]byte) error
	Display(size, elemSize int, vecs [][]byte) error
	Close() error
}

type libVerifier struct {
	init    func(int, int, [][]byte) error
	display func(int, int, [][]byte) error
	close   func() error
}

func (v *libVerifier) Init(size, elemSize int, vecs [][]byte) error {
	return v.init(size, elemSize, vecs)
}

func (v *libVerifier) Display(size, elemSize int, vecs [][]byte) error {
	return v.display(size, elemSize, vecs)
}

func (v *libVerifier) Close() error { return v.close() }

// ResolveVerifier builds a verifier from a library.
func ResolveVerifier(l Lookuper) (Verifier, error) {
	v := &libVerifier{}
	var err error
	if v.init, err = requiredHook[func(int, int, [][]byte) error](l, VerificationInit, verifyHookSignature); err != nil {
		return nil, err
	}
	if v.display, err = requiredHook[func(int, int, [][]byte) error](l, VerificationDisplay, verifyHookSignature); err != nil {
		return nil, err
	}
	if v.close, err = requiredHook[func() error](l, VerificationClose, "func() error"); err != nil {
		return nil, err
	}
	return v, nil
}
