package validation

import (
	"context"
	"errors"

	"go_certagent/internal/acme"
	"go_certagent/internal/target"

	"github.com/sirupsen/logrus"
)

// State of one identifier's validation
type State int

const (
	StateCreated State = iota
	StatePrepared
	StateCommitted
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateCleanedUp:
		return "cleaned-up"
	default:
		return "unknown"
	}
}

// Parallelism declares which steps a validator can run for several identifiers at once
type Parallelism uint8

const (
	// ParallelPrepare allows preparing all identifiers before one commit
	ParallelPrepare Parallelism = 1 << iota
	// ParallelAnswer allows answering challenges concurrently
	ParallelAnswer
	// ParallelReuse allows one batch to span several orders
	ParallelReuse
)

// Has reports whether all flags in f are set
func (p Parallelism) Has(f Parallelism) bool {
	return p&f == f
}

// ErrNoAuthority is returned when no DNS authority in the chain accepted the record
var ErrNoAuthority = errors.New("no authority could be used for the challenge record")

// Context carries one identifier through Prepare, Commit, answer and CleanUp
type Context struct {
	Identifier    target.Identifier
	Authorization *acme.Authorization
	Challenge     acme.Challenge
	KeyAuth       string
	State         State
	Log           *logrus.Entry

	// Data holds validator state between Prepare and CleanUp
	Data any

	attempted bool
}

// Validator is the executor of a validation plugin
type Validator interface {
	// ChallengeType is the ACME challenge type answered, e.g. http-01
	ChallengeType() string
	Parallelism() Parallelism

	// Prepare makes the challenge response available for one identifier
	Prepare(ctx context.Context, vc *Context) error
	// Commit is called once per batch after every Prepare succeeded
	Commit(ctx context.Context, batch []*Context) error
	// CleanUp removes whatever Prepare created. It must tolerate partial preparation.
	CleanUp(ctx context.Context, vc *Context) error
}
