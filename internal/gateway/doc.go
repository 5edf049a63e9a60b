// Package gateway serves traffic over the current routing table.
//
// The Dispatcher matches each inbound request against the table snapshot,
// runs the matched route's policy chain and writes the buffered response.
// Gateway owns the listeners: the proxy listener serving the dispatcher,
// plus optional admin and metrics listeners, and moves through the
// stopped, starting, running and stopping states.
//
// # Usage
//
//	d := gateway.NewDispatcher(builder, upstream.Forward,
//	    gateway.WithRuntime(runtime),
//	    gateway.WithDispatcherLogger(logger),
//	)
//	gw := gateway.New(cfg,
//	    gateway.WithLogger(logger),
//	    gateway.WithRouteHandler(d),
//	    gateway.WithAdminHandler(adminEngine),
//	)
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(context.Background())
package gateway
