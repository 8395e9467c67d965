package models

import "errors"

var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidBar       = errors.New("invalid bar (high < low)")
	ErrInvalidVolume    = errors.New("invalid volume")
	ErrInvalidTracker   = errors.New("invalid tracker name")
	ErrInvalidEventID   = errors.New("invalid event ID")
	ErrOutOfOrderBar    = errors.New("bar timestamp precedes last processed bar")
)
