package transport

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// ChannelFactory allows overriding the in-memory pubsub creation for
// testing.
var ChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func buildChannel(logger watermill.LoggerAdapter) (Transport, error) {
	pub, sub := ChannelFactory(gochannel.Config{}, logger)
	return Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}
