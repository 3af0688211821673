package ops

import "errors"

var (
	errUnknownStream = errors.New("ops: unknown stream resource")
	errReaderTaken   = errors.New("ops: stream reader already acquired")
	errFetchAborted  = errors.New("ops: fetch aborted")
)
