package transport

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

// httpConnectDialer tunnels a TCP connection through an HTTP proxy via
// the CONNECT method. golang.org/x/net/proxy ships SOCKS5 support but no
// HTTP CONNECT dialer, so this registers one under the "http" scheme the
// way the package's own documentation describes extending
// proxy.RegisterDialerType.
type httpConnectDialer struct {
	proxyAddr string
	auth      *url.Userinfo
	forward   proxy.Dialer
}

func newHTTPConnectDialer(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	return &httpConnectDialer{proxyAddr: u.Host, auth: u.User, forward: forward}, nil
}

func (d *httpConnectDialer) Dial(network, addr string) (net.Conn, error) {
	conn, err := d.forward.Dial(network, d.proxyAddr)
	if err != nil {
		return nil, err
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.auth != nil {
		password, _ := d.auth.Password()
		req.SetBasicAuth(d.auth.Username(), password)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("transport: proxy CONNECT to %s failed: %s", addr, resp.Status)
	}
	return conn, nil
}
