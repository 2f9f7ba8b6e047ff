package connection

import (
	"errors"
	"testing"

	"github.com/dstrand/portal/internal/envelope"
)

func TestValidateSessionMessageRejectsSelfSender(t *testing.T) {
	env, _ := envelope.NewBuilder(envelope.SessionOffer).
		Sender("peer-a").Target("peer-a").SessionDescription("sdp").Build()
	if err := validateSessionMessage(env, "peer-a"); !errors.Is(err, ErrSenderIsSelf) {
		t.Fatalf("err = %v, want ErrSenderIsSelf", err)
	}
}

func TestValidateSessionMessageRejectsWrongTarget(t *testing.T) {
	env, _ := envelope.NewBuilder(envelope.SessionOffer).
		Sender("peer-a").Target("peer-b").SessionDescription("sdp").Build()
	if err := validateSessionMessage(env, "peer-c"); !errors.Is(err, ErrTargetNotSelf) {
		t.Fatalf("err = %v, want ErrTargetNotSelf", err)
	}
}

func TestValidateSessionMessageRejectsEmptySDP(t *testing.T) {
	env, _ := envelope.NewBuilder(envelope.SessionOffer).
		Sender("peer-a").Target("peer-b").Build()
	if err := validateSessionMessage(env, "peer-b"); !errors.Is(err, ErrEmptySessionDesc) {
		t.Fatalf("err = %v, want ErrEmptySessionDesc", err)
	}
}

func TestValidateSessionMessageAccepts(t *testing.T) {
	env, _ := envelope.NewBuilder(envelope.SessionOffer).
		Sender("peer-a").Target("peer-b").SessionDescription("sdp").Build()
	if err := validateSessionMessage(env, "peer-b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateICECandidateRejectsEmpty(t *testing.T) {
	env, _ := envelope.NewBuilder(envelope.NewICECandidate).Sender("peer-a").Build()
	if err := validateICECandidate(env); !errors.Is(err, ErrEmptyICECandidate) {
		t.Fatalf("err = %v, want ErrEmptyICECandidate", err)
	}
}
