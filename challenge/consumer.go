package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"
	"github.com/sakhi11/codestake/common"
	"github.com/sakhi11/codestake/pipeline"
)

const defaultNatsStream = "codestake"

const natsTxConfirmedMaxInFlight = 32
const txConfirmedAckWait = time.Minute * 5
const txConfirmedMaxDeliveries = 5

const reconcileTimeout = time.Second * 30

var (
	consumerStore *Store
	consumerOnce  sync.Once
)

// RunConsumers subscribes the reconciliation consumer for confirmed transactions. Confirmed
// writes already applied their delta locally; the consumer re-fetches the authoritative state
// so the cache converges even when a delta raced or a confirmation arrived from elsewhere.
func RunConsumers(store *Store) {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("challenge package consumer configured to skip NATS streaming subscription setup")
		return
	}

	consumerOnce.Do(func() {
		consumerStore = store

		natsutil.EstablishSharedNatsConnection(nil)
		natsutil.NatsCreateStream(defaultNatsStream, []string{
			fmt.Sprintf("%s.>", defaultNatsStream),
		})

		var waitGroup sync.WaitGroup
		createNatsTxConfirmedSubscriptions(&waitGroup)
	})
}

func createNatsTxConfirmedSubscriptions(wg *sync.WaitGroup) {
	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			txConfirmedAckWait,
			pipeline.NatsTxConfirmedSubject,
			pipeline.NatsTxConfirmedSubject,
			pipeline.NatsTxConfirmedSubject,
			consumeTxConfirmedMsg,
			txConfirmedAckWait,
			natsTxConfirmedMaxInFlight,
			txConfirmedMaxDeliveries,
			nil,
		)
	}
}

func consumeTxConfirmedMsg(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during challenge reconciliation; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS tx confirmation message on subject: %s", len(msg.Data), msg.Subject)

	params := map[string]interface{}{}
	err := json.Unmarshal(msg.Data, &params)
	if err != nil {
		common.Log.Warningf("failed to unmarshal tx confirmation message; %s", err.Error())
		msg.Nak()
		return
	}

	metadata, metadataOk := params["metadata"].(map[string]interface{})
	if !metadataOk {
		// confirmation without a challenge association; nothing to reconcile
		msg.Ack()
		return
	}

	challengeID, challengeIDOk := metadata["challenge_id"].(float64)
	if !challengeIDOk {
		msg.Ack()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	c, err := consumerStore.Fetch(ctx, uint64(challengeID))
	if err != nil {
		common.Log.Warningf("failed to reconcile challenge %d after confirmation; %s", uint64(challengeID), err.Error())
		msg.Nak()
		return
	}

	if c.Source == SourceFallback {
		common.Log.Warningf("reconciliation of challenge %d returned fallback data; retrying", c.ID)
		msg.Nak()
		return
	}

	common.Log.Debugf("reconciled challenge %d from authoritative ledger state", c.ID)
	msg.Ack()
}
