// Package pubsub provides the broker abstraction used for wake hints and SSE
// fan-out.
//
// # Overview
//
// Two wake channels (codehub:wake:ob, codehub:wake:wc) let the EventListener
// and Observer short-circuit the Observer/Controller polling intervals when
// intent changes. A per-user channel (codehub:sse:{user_id}) carries the
// events browsers subscribe to. None of this is a correctness dependency:
// every consumer also polls on a timer, so a dropped or duplicated pub/sub
// message only costs latency.
//
// # Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	ps := pubsub.NewRedisPubSub(redisClient)
//	ps.Publish(ctx, pubsub.WakeControllerTopic, &pubsub.WakeHint{WorkspaceID: id})
//
//	ch, unsub := ps.Subscribe(ctx, pubsub.SSETopic(userID))
//	defer unsub()
//	for msg := range ch {
//		var evt pubsub.WorkspaceUpdated
//		json.Unmarshal(msg, &evt)
//	}
package pubsub
