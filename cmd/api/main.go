package main

import (
	"context"
	"os"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/sakhi11/codestake/challenge"
	"github.com/sakhi11/codestake/common"
	"github.com/sakhi11/codestake/ledger"
	"github.com/sakhi11/codestake/network"
	"github.com/sakhi11/codestake/pipeline"
	"github.com/sakhi11/codestake/quiz"
	"github.com/sakhi11/codestake/wallet"
)

const defaultListenAddr = "0.0.0.0:8080"

func main() {
	common.RequireRedis()

	required := network.RequiredDescriptor()

	rpc, err := ethclient.Dial(common.RequireRPCURL())
	if err != nil {
		common.Log.Panicf("failed to dial ledger RPC endpoint; %s", err.Error())
	}

	key := os.Getenv("WALLET_PRIVATE_KEY")
	common.PanicIfEmpty(key, "WALLET_PRIVATE_KEY not set")

	bridge, err := wallet.NewKeyedBridge(key, rpc)
	if err != nil {
		common.Log.Panicf("failed to initialize wallet bridge; %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := wallet.NewSession(bridge)
	if _, err = session.Connect(ctx); err != nil {
		common.Log.Panicf("failed to connect wallet session; %s", err.Error())
	}
	go session.Watch(ctx)

	guard := network.NewGuard(bridge, required)
	if err = guard.EnsureNetwork(ctx); err != nil {
		common.Log.Panicf("ledger RPC endpoint serves the wrong network; %s", err.Error())
	}

	client := ledger.Bind(
		ethcommon.HexToAddress(common.RequireContractAddress()),
		ledger.MustStakingABI(),
		rpc,
		session,
	)

	store := challenge.NewStore(client)
	session.OnIdentityChange(func(identity *wallet.Identity) {
		if identity != nil {
			store.InvalidateSummary(identity.Address)
		}
	})

	challenge.RunConsumers(store)

	service := challenge.NewService(store, pipeline.New(guard, client), client, session)

	r := gin.Default()
	challenge.InstallAPI(r, service, store)
	quiz.InstallAPI(r)

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	common.Log.Debugf("codestake API listening on %s", listenAddr)
	if err = r.Run(listenAddr); err != nil {
		common.Log.Panicf("API server terminated; %s", err.Error())
	}
}
