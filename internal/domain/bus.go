package domain

// MessageBus connects channels to the command router. Channels publish
// inbound events and register an outbound handler under their name;
// the router and inference gateway send outbound messages back through it.
type MessageBus interface {
	Publish(evt InboundEvent)
	Subscribe() <-chan InboundEvent
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
