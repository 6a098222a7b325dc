package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"

	"collabtext/observability"
)

const serviceName = "_collabtext._tcp"

// startDiscovery announces this agent over mDNS and logs other agents
// editing the same room until ctx is done.
func startDiscovery(ctx context.Context, log observability.Logger, room string, port int) error {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("%s-%s", "CollabText", host),
		serviceName,
		"local.",
		port,
		[]string{"txtv=0", "room=" + room},
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "register mDNS service")
	}
	defer server.Shutdown()
	log.Info("mDNS service registered", map[string]interface{}{"service": serviceName, "port": port})

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return errors.Wrap(err, "initialize mDNS resolver")
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			if !sameRoom(entry.Text, room) {
				continue
			}
			fields := map[string]interface{}{"instance": entry.Instance, "port": entry.Port}
			if len(entry.AddrIPv4) > 0 {
				fields["addr"] = entry.AddrIPv4[0].String()
			}
			log.Info("mDNS discovered peer", fields)
		}
	}(entries)
	if err := resolver.Browse(ctx, serviceName, "local.", entries); err != nil {
		return errors.Wrap(err, "browse mDNS services")
	}
	<-ctx.Done()
	log.Info("mDNS browsing finished", nil)
	return nil
}

func sameRoom(txt []string, room string) bool {
	for _, t := range txt {
		if v, ok := strings.CutPrefix(t, "room="); ok {
			return v == room
		}
	}
	return false
}
