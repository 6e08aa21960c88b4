package dns

import (
	"net/netip"

	"github.com/cockroachdb/errors"
)

func checkServerAddr(addr netip.Addr) (netip.Addr, error) {
	switch {
	case !addr.IsValid():
		return addr, errors.Wrap(ErrBadAddress, "missing server address")
	case addr.Zone() != "":
		return addr, errors.Wrapf(ErrInvalidAddressType, "scoped address %s", addr)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() {
		return addr, errors.Wrapf(ErrBadAddress, "unspecified server address %s", addr)
	}
	return addr, nil
}

// AddServer appends addr to the server list.
func (c *Client) AddServer(addr netip.Addr) error {
	addr, err := checkServerAddr(addr)
	if err != nil {
		return err
	}
	if err := c.acquireUpdate(); err != nil {
		return err
	}
	defer c.release()
	for i := range c.servers {
		switch c.servers[i] {
		case addr:
			return errors.Wrapf(ErrDuplicateEntry, "server %s", addr)
		case netip.Addr{}:
			c.servers[i] = addr
			c.logger.Debug("added server %s at %d", addr, i)
			return nil
		}
	}
	return errors.Wrapf(ErrServerListFull, "cannot add %s", addr)
}

// AddServerIPv4 appends an IPv4 server given as four bytes.
func (c *Client) AddServerIPv4(addr [4]byte) error {
	return c.AddServer(netip.AddrFrom4(addr))
}

// RemoveServer drops addr and closes the gap it leaves.
func (c *Client) RemoveServer(addr netip.Addr) error {
	addr, err := checkServerAddr(addr)
	if err != nil {
		return err
	}
	if err := c.acquireUpdate(); err != nil {
		return err
	}
	defer c.release()
	for i := range c.servers {
		if !c.servers[i].IsValid() {
			break
		}
		if c.servers[i] == addr {
			copy(c.servers[i:], c.servers[i+1:])
			c.servers[len(c.servers)-1] = netip.Addr{}
			c.logger.Debug("removed server %s", addr)
			return nil
		}
	}
	return errors.Wrapf(ErrServerNotFound, "server %s", addr)
}

// RemoveAllServers empties the server list.
func (c *Client) RemoveAllServers() error {
	if err := c.acquireUpdate(); err != nil {
		return err
	}
	defer c.release()
	c.servers = [MaxServers]netip.Addr{}
	return nil
}

// Server returns the server at index.
func (c *Client) Server(index int) (netip.Addr, error) {
	if index < 0 || index >= MaxServers {
		return netip.Addr{}, errors.Wrapf(ErrInvalidParameter, "server index %d", index)
	}
	if err := c.acquireUpdate(); err != nil {
		return netip.Addr{}, err
	}
	defer c.release()
	if !c.servers[index].IsValid() {
		return netip.Addr{}, errors.Wrapf(ErrServerNotFound, "no server at %d", index)
	}
	return c.servers[index], nil
}

// ServerCount returns the number of configured servers.
func (c *Client) ServerCount() (int, error) {
	if err := c.acquireUpdate(); err != nil {
		return 0, err
	}
	defer c.release()
	return len(c.serverList()), nil
}

// Servers returns a copy of the server list, or nil when the client is
// closed.
func (c *Client) Servers() []netip.Addr {
	if err := c.acquireUpdate(); err != nil {
		return nil
	}
	defer c.release()
	return append([]netip.Addr(nil), c.serverList()...)
}

// serverList returns the occupied prefix of the slots. The instance must be
// held.
func (c *Client) serverList() []netip.Addr {
	n := 0
	for n < len(c.servers) && c.servers[n].IsValid() {
		n++
	}
	return c.servers[:n]
}
