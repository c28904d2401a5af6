package contract

import (
	"errors"
	"fmt"

	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolInvocation   = errors.New("tool invocation failed")
	ErrUpstreamNotFound = fmt.Errorf("%w: upstream data not found", ErrToolInvocation)
	ErrOracleInvoke     = errors.New("oracle invoke failed")
	ErrOracleTimeout    = errors.New("oracle timed out")
	ErrOracleStepLimit  = errors.New("oracle step limit exceeded")
	ErrOracleOutput     = errors.New("oracle output is not a valid action")
	ErrEnvelopeParse    = envelopex.ErrParse
	ErrValidation       = errors.New("validation failed")
)
