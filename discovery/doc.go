// Package discovery implements the SSDP-style service discovery
// processor (C10): periodic multicast/broadcast advertising and
// subscription with local interface churn handling, per
// Service_discovery_processor.
//
// A service is advertised over every multicast-capable non-loopback
// interface plus a dedicated loopback broadcast sender, so co-located
// processes see each other even without multicast routing. Subscribers
// receive NOTIFY alive/byebye and M-SEARCH responses through a handler
// posted onto their own Container, the same handoff pattern the
// transport detector uses for its callbacks.
package discovery
