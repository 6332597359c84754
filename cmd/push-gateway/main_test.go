// cmd/push-gateway/main_test.go
package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testClient(userID int64) *Client {
	return &Client{send: make(chan []byte, 1), userID: userID}
}

func TestHubPushDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := newHub()
	go hub.run(ctx)

	client := testClient(7)
	hub.register <- client

	hub.push(7, []byte("订单已创建"))
	select {
	case msg := <-client.send:
		if string(msg) != "订单已创建" {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("push was not delivered")
	}

	// 同一用户重复注册时旧连接的 send 被关闭，推送走新连接
	replacement := testClient(7)
	hub.register <- replacement
	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("old client send should be closed after replacement")
		}
	case <-time.After(time.Second):
		t.Fatal("old client send was not closed")
	}
	hub.push(7, []byte("新连接"))
	select {
	case msg := <-replacement.send:
		if string(msg) != "新连接" {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("push to replacement was not delivered")
	}
}

func TestHubPushAfterUnregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := newHub()
	go hub.run(ctx)

	client := testClient(9)
	hub.register <- client
	hub.unregister <- client

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("send should be closed after unregister")
		}
	case <-time.After(time.Second):
		t.Fatal("send was not closed")
	}

	// 注销之后继续推送只会被丢弃，不许崩溃
	for i := 0; i < 100; i++ {
		hub.push(9, []byte("late"))
	}
	hub.push(404, []byte("nobody home"))
}

func TestHubConcurrentPushDuringChurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := newHub()
	go hub.run(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c := testClient(1)
			hub.register <- c
			hub.unregister <- c
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				hub.push(1, []byte("event"))
			}
		}()
	}
	wg.Wait()
}
