package controller

import (
	"github.com/loqalabs/voicepay/internal/command"
	"github.com/loqalabs/voicepay/internal/navigation"
	"github.com/loqalabs/voicepay/internal/transactions"
)

// event is anything posted to the loop besides transcript and speech updates.
type event interface {
	event()
}

type uiCommand struct {
	cmd   command.Command
	epoch uint64
	reply chan<- applyResult
}

type applyResult struct {
	outcome navigation.Outcome
	err     error
}

type listenRequest struct {
	on    bool
	reply chan<- bool
}

type timerFired struct {
	kind  navigation.TimerKind
	epoch uint64
}

type historyLoaded struct {
	epoch uint64
	count int
	err   error
}

type persisted struct {
	session string
	input   transactions.NewTransaction
	tx      transactions.Transaction
	err     error
}

func (uiCommand) event()     {}
func (listenRequest) event() {}
func (timerFired) event()    {}
func (historyLoaded) event() {}
func (persisted) event()     {}
