package main

import (
	"fmt"

	_ "github.com/agentuity/go-stubdns/cache"
	_ "github.com/agentuity/go-stubdns/dns"
	_ "github.com/agentuity/go-stubdns/env"
	_ "github.com/agentuity/go-stubdns/logger"
	_ "github.com/agentuity/go-stubdns/net"
	_ "github.com/agentuity/go-stubdns/resilience"
	_ "github.com/agentuity/go-stubdns/rrcache"
	_ "github.com/agentuity/go-stubdns/telemetry"
	_ "github.com/agentuity/go-stubdns/tui"
	_ "github.com/agentuity/go-stubdns/wire"
)

func main() {
	fmt.Println("Hi")
}
