package pipeline

import "errors"

var (
	errMissingStep    = errors.New("missing mandatory parameter: step")
	errUnknownStep    = errors.New("unknown step")
	errNoInput        = errors.New("cannot read step input")
	errNoSEDs         = errors.New("no SED could be generated")
	errAlreadyRunning = errors.New("the pipeline is running already")
)
