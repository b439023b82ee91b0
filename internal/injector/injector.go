//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/aesync/aesync/internal/core/engine"
	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/protocol"
)

func ProvideLogger() *log.Logger {
	wire.Build(log.Provide)
	return log.New(log.LevelDebug)
}

func ProvideHost(cfg engine.Config, transport protocol.Transport, lg log.Log) *engine.Host {
	wire.Build(engine.NewContext, engine.NewHost)
	return nil
}

func ProvidePeer(cfg engine.Config, transport protocol.Transport, lg log.Log) *engine.Peer {
	wire.Build(engine.NewContext, engine.NewPeer)
	return nil
}
