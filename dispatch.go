package bypass

// Routing helpers shared by every hook.
//
// A call that targets a managed path or descriptor takes the guard in read mode, finds the
// active client and keeps the guard until the client returns. A call that targets anything
// else goes straight to the genuine table without holding the guard, so the I/O path on
// unmanaged descriptors never waits for a swap.

// held takes the guard and returns the active client. With no running module it releases
// the guard again and returns nil.
func (c *Context) held() Client {
	c.guard.RLock()
	if m := c.active; m != nil {
		if cl := m.Client(); cl != nil {
			return cl
		}
	}
	c.guard.RUnlock()
	return nil
}

// release ends a call section opened by a non nil fdClient or pathClient result.
func (c *Context) release() {
	c.guard.RUnlock()
}

// fdClient returns the active client, guard held, when fd is managed; nil otherwise.
func (c *Context) fdClient(fd int) Client {
	c.ensure()
	if !c.ns.ManagedFD(fd) {
		return nil
	}
	return c.held()
}

// pathClient resolves dirfd and path through the namespace. The client is non nil, guard held,
// when the path is managed and a module is running. The returned dirfd and path are the form
// the chosen target must receive.
func (c *Context) pathClient(dirfd int, path string) (Client, int, string) {
	c.ensure()
	d, p, ok := c.ns.Resolve(dirfd, path)
	if !ok {
		return nil, d, p
	}
	return c.held(), d, p
}

// pathPair routes a call naming two paths. Both must sit on the same side of the namespace.
func (c *Context) pathPair(olddirfd int, oldpath string, newdirfd int, newpath string) (cl Client, od int, op string, nd int, np string, cross bool) {
	c.ensure()
	od, op, oldManaged := c.ns.Resolve(olddirfd, oldpath)
	nd, np, newManaged := c.ns.Resolve(newdirfd, newpath)
	if oldManaged != newManaged {
		return nil, od, op, nd, np, true
	}
	if oldManaged {
		cl = c.held()
	}
	return
}
