package channels_test

import (
	"context"
	"fmt"
	"time"

	"github.com/baxromumarov/fiberworks"
	"github.com/baxromumarov/fiberworks/channels"
)

func ExampleChannel() {
	fiber := fiberworks.NewStubFiber()
	ch := channels.NewChannel[string]()

	sub := ch.Subscribe(fiber, func(s string) { fmt.Println("fiber got", s) })
	ch.SubscribeFunc(func(s string) { fmt.Println("sync got", s) })

	ch.Publish("a")
	fiber.ExecutePending()

	sub.Dispose()
	fmt.Println("subscribers:", ch.NumSubscribers())
	// Output:
	// sync got a
	// fiber got a
	// subscribers: 1
}

func ExampleSubscribeToBatch() {
	fiber := fiberworks.NewStubFiber()
	ch := channels.NewChannel[int]()

	channels.SubscribeToBatch(ch, fiber, time.Second, func(batch []int) {
		fmt.Println("batch", batch)
	}, channels.WithFilter(func(n int) bool { return n%2 == 0 }))

	for i := range 6 {
		ch.Publish(i)
	}
	fiber.ExecuteAllScheduled()
	// Output: batch [0 2 4]
}

func ExampleAckChannel() {
	ch := channels.NewAckChannel[string]()
	ch.SubscribeFunc(func(s string) bool { return len(s) > 3 })

	for _, msg := range []string{"hi", "hello"} {
		handled, err := ch.Publish(context.Background(), msg, nil)
		fmt.Println(msg, handled, err)
	}
	// Output:
	// hi false <nil>
	// hello true <nil>
}

func ExampleRequestReplyChannel() {
	server := fiberworks.NewStubFiber()
	client := fiberworks.NewStubFiber()
	ch := channels.NewRequestReplyChannel[int, int]()

	ch.AddResponder(server, func(req *channels.Request[int, int]) {
		req.SendReply(req.Payload() * req.Payload())
	})

	box := ch.SendRequest(7)
	box.SetCallbackOnReceive(time.Second, client, func(v int, ok bool) {
		fmt.Println("reply", v, ok)
	})

	server.ExecutePending()
	client.ExecutePending()
	box.Dispose()
	// Output: reply 49 true
}
