// Package client provides a Go SDK for macrocore's admin HTTP+WS surface.
//
// Unlike the handlers it talks to, this client has no access to a
// manager.Manager directly — it's meant for a detached GUI, CLI, or a
// second macrocore instance observing and driving a running engine over
// the network.
//
// # Basic usage
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tasks, err := c.ListTasks(ctx)
//	err = c.PauseTask(ctx, "clicker", false)
//
// # Live events
//
//	if err := c.ConnectWebSocket(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for ev := range c.Events() {
//	    fmt.Printf("event: %s\n", ev.Type)
//	}
//
// # Configuration
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAPIKey("your-api-key"),
//	    client.WithTimeout(10 * time.Second),
//	)
package client
