package escrow

import (
	"bytes"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
)

// Program is the executable escrow program for a single strategy.
type Program struct {
	log      *logrus.Entry
	strategy Strategy
	delivery delivery
}

// NewProgram returns the escrow program implementing strategy.
func NewProgram(strategy Strategy) *Program {
	return &Program{
		log:      logrus.StandardLogger().WithField("type", "escrow/program").WithField("strategy", strategy.String()),
		strategy: strategy,
		delivery: newDelivery(strategy),
	}
}

// RuntimeOptions installs both escrow deployments into a runtime.
func RuntimeOptions() []runtime.Option {
	return []runtime.Option{
		runtime.WithProgram(VAULT_PROGRAM_ID, NewProgram(StrategyVault)),
		runtime.WithProgram(APPROVE_PROGRAM_ID, NewProgram(StrategyApprove)),
	}
}

func (p *Program) Process(ic *runtime.InvokeContext, accounts []*runtime.AccountRef, data []byte) error {
	if len(data) < 8 {
		return solana.InstructionErrorInvalidInstructionData
	}

	var instruction string
	var err error
	switch {
	case bytes.Equal(data[:8], makeOfferInstructionDiscriminator):
		instruction = "MakeOffer"
		ic.Log("Instruction: MakeOffer")

		var args *MakeOfferInstructionArgs
		args, err = MakeOfferInstructionFromBinary(data)
		if err != nil {
			return solana.InstructionErrorInvalidInstructionData
		}
		err = p.makeOffer(ic, accounts, args)
	case bytes.Equal(data[:8], takeOfferInstructionDiscriminator):
		instruction = "TakeOffer"
		ic.Log("Instruction: TakeOffer")

		err = p.takeOffer(ic, accounts)
	default:
		return solana.InstructionErrorInvalidInstructionData
	}

	if err != nil {
		p.log.WithFields(logrus.Fields{
			"program":     base58.Encode(ic.ProgramID()),
			"instruction": instruction,
		}).WithError(err).Debug("instruction failed")
	}
	return err
}
