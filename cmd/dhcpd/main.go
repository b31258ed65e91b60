// Command dhcpd runs the DHCPv4 server: a flat-file host store, the
// transaction state machine, and the broadcast-reply server loop.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/kbatten/dhcpd/allocator"
	"github.com/kbatten/dhcpd/dhcpconfig"
	"github.com/kbatten/dhcpd/dhcpmsg"
	"github.com/kbatten/dhcpd/hoststore"
	"github.com/kbatten/dhcpd/scheduler"
	"github.com/kbatten/dhcpd/server"
	"github.com/kbatten/dhcpd/transaction"
)

func main() {
	var (
		network      = pflag.String("network", "192.168.173.0", "served network address")
		subnetMask   = pflag.String("subnet-mask", "255.255.255.0", "subnet mask")
		router       = pflag.StringSlice("router", nil, "router(s) advertised to clients")
		dns          = pflag.StringSlice("dns", nil, "DNS server(s) advertised to clients")
		leaseTime    = pflag.Duration("lease-time", 300*time.Second, "ip_address_lease_time")
		offerAfter   = pflag.Duration("offer-after", 10*time.Second, "delay before sending OFFER")
		ackAfter     = pflag.Duration("ack-after", 10*time.Second, "delay before sending ACK")
		transTTL     = pflag.Duration("transaction-ttl", 40*time.Second, "length_of_transaction")
		hostFile     = pflag.String("host-file", "dhcpd.hosts", "path to the flat-file host store")
		nextServer   = pflag.String("next-server", "", "siaddr/next-server, passed through verbatim if set")
		bootFile     = pflag.String("boot-file", "", "bootfile name, passed through verbatim if set")
		logLevel     = pflag.String("log-level", "info", "zerolog level: debug, info, warn, error")
		namedOpts    = pflag.StringArray("option", nil, "symbolic option override name=value, e.g. domain_name=example.com (repeatable)")
		numericOpts  = pflag.StringArray("option-NN", nil, "numeric option override code=hex, e.g. 66=c0a8ad01 (repeatable)")
	)
	pflag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	cfg := dhcpconfig.Default()
	cfg.Network = net.ParseIP(*network)
	cfg.SubnetMask = parseMask(*subnetMask)
	cfg.IPAddressLeaseTime = *leaseTime
	cfg.OfferAfter = *offerAfter
	cfg.AcknowledgeAfter = *ackAfter
	cfg.TransactionTTL = *transTTL
	cfg.HostFile = *hostFile
	cfg.Router = parseIPs(*router)
	cfg.DomainNameServer = parseIPs(*dns)
	if *nextServer != "" {
		cfg.NextServer = net.ParseIP(*nextServer)
	}
	cfg.BootFile = *bootFile

	for _, spec := range *namedOpts {
		code, v, err := parseNamedOption(spec)
		if err != nil {
			log.Fatal().Err(err).Str("option", spec).Msg("invalid --option")
		}
		cfg.NamedOptions[code] = v
	}
	for _, spec := range *numericOpts {
		code, v, err := parseNumericOption(spec)
		if err != nil {
			log.Fatal().Err(err).Str("option-NN", spec).Msg("invalid --option-NN")
		}
		cfg.NumericOptions[code] = v
	}

	if cfg.Network == nil {
		log.Fatal().Str("network", *network).Msg("invalid network address")
	}

	store, err := hoststore.Open(cfg.HostFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.HostFile).Msg("opening host store")
	}

	table := &transaction.Table{
		Scheduler: scheduler.New(),
		Allocator: &allocator.Allocator{Store: store, Config: cfg},
		Config:    cfg,
		Store:     store,
	}

	srv := &server.Server{
		Table:     table,
		Scheduler: table.Scheduler,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("network", cfg.NetworkAddress().String()).
		Str("mask", net.IP(cfg.SubnetMask).String()).
		Str("host_file", cfg.HostFile).
		Msg("starting dhcpd")

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shut down")
}

func parseMask(s string) net.IPMask {
	ip := net.ParseIP(s)
	if ip == nil {
		return net.IPv4Mask(255, 255, 255, 0)
	}
	v4 := ip.To4()
	return net.IPv4Mask(v4[0], v4[1], v4[2], v4[3])
}

func parseIPs(values []string) []net.IP {
	var out []net.IP
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if ip := net.ParseIP(v); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

// parseNamedOption resolves a "name=value" --option argument against the
// static option table (dhcpmsg.CodeByName) and encodes value according to
// the option's declared type, e.g. "domain_name=example.com" or
// "ntp_servers=10.0.0.1,10.0.0.2" (spec.md §6's symbolic per-option
// overrides).
func parseNamedOption(spec string) (dhcpmsg.OptionCode, dhcpmsg.OptionValue, error) {
	name, raw, ok := strings.Cut(spec, "=")
	if !ok {
		return 0, dhcpmsg.OptionValue{}, fmt.Errorf("expected name=value, got %q", spec)
	}
	code, ok := dhcpmsg.CodeByName(name)
	if !ok {
		return 0, dhcpmsg.OptionValue{}, fmt.Errorf("unknown option name %q", name)
	}
	d, _ := dhcpmsg.Descriptor(code)

	var value any
	switch d.Type {
	case dhcpmsg.TypeIP:
		ip := net.ParseIP(raw)
		if ip == nil {
			return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %s: invalid IPv4 address %q", name, raw)
		}
		value = ip
	case dhcpmsg.TypeIPList:
		var ips []net.IP
		for _, part := range strings.Split(raw, ",") {
			ip := net.ParseIP(strings.TrimSpace(part))
			if ip == nil {
				return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %s: invalid IPv4 address %q", name, part)
			}
			ips = append(ips, ip)
		}
		value = ips
	case dhcpmsg.TypeU8:
		n, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %s: %w", name, err)
		}
		value = byte(n)
	case dhcpmsg.TypeU16:
		n, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %s: %w", name, err)
		}
		value = uint16(n)
	case dhcpmsg.TypeU32:
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %s: %w", name, err)
		}
		value = uint32(n)
	case dhcpmsg.TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %s: %w", name, err)
		}
		value = b
	case dhcpmsg.TypeBytes:
		b, err := hex.DecodeString(raw)
		if err != nil {
			return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %s: %w", name, err)
		}
		value = b
	default: // TypeString and anything else passed through as-is
		value = raw
	}

	enc, err := dhcpmsg.Encode(code, value)
	if err != nil {
		return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %s: %w", name, err)
	}
	return code, enc, nil
}

// parseNumericOption resolves a "code=hex" --option-NN argument: the
// option code is addressed purely by number, and the value is taken as
// raw hex-encoded bytes rather than decoded by a declared type, since an
// administrator using the numeric form is not guaranteed to be naming a
// code the static table recognizes (spec.md §6's numeric option_NN
// override).
func parseNumericOption(spec string) (dhcpmsg.OptionCode, dhcpmsg.OptionValue, error) {
	codeStr, raw, ok := strings.Cut(spec, "=")
	if !ok {
		return 0, dhcpmsg.OptionValue{}, fmt.Errorf("expected code=hex, got %q", spec)
	}
	n, err := strconv.ParseUint(codeStr, 10, 8)
	if err != nil {
		return 0, dhcpmsg.OptionValue{}, fmt.Errorf("invalid option code %q: %w", codeStr, err)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return 0, dhcpmsg.OptionValue{}, fmt.Errorf("option %d: %w", n, err)
	}
	return dhcpmsg.OptionCode(n), dhcpmsg.OptionValue{Raw: b}, nil
}
