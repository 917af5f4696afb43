package transport

import (
	"fmt"
	"net"
	"net/url"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/net/proxy"

	"github.com/wheelos-io/thingcore/pkg/config"
	"github.com/wheelos-io/thingcore/pkg/status"
)

func init() {
	proxy.RegisterDialerType("http", newHTTPConnectDialer)
}

// customOpenConnectionFn builds a paho CustomOpenConnectionFn that routes
// the broker's TCP dial through the configured proxy: an explicit
// per-instance field rather than a process-global socket swap, so the
// proxy choice is scoped to this one Adapter's dial.
//
// SOCKS4 has no golang.org/x/net/proxy implementation; it is rejected
// with NotSupported.
func customOpenConnectionFn(p config.ProxyConfig) (func(*url.URL, mqtt.ClientOptions) (net.Conn, error), status.Code) {
	switch p.Type {
	case config.ProxyTypeSOCKS4:
		return nil, status.NotSupported

	case config.ProxyTypeSOCKS5:
		var auth *proxy.Auth
		if p.Username != "" {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("%s:%d", p.Host, p.Port), auth, proxy.Direct)
		if err != nil {
			return nil, status.BadParameter
		}
		return openVia(dialer), status.Success

	case config.ProxyTypeHTTP:
		proxyURL := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", p.Host, p.Port)}
		if p.Username != "" {
			proxyURL.User = url.UserPassword(p.Username, p.Password)
		}
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, status.BadParameter
		}
		return openVia(dialer), status.Success

	default:
		return nil, status.BadParameter
	}
}

func openVia(dialer proxy.Dialer) func(*url.URL, mqtt.ClientOptions) (net.Conn, error) {
	return func(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
		return dialer.Dial("tcp", uri.Host)
	}
}
