package plc

import (
	"context"
	"fmt"

	"github.com/goplc-io/goplc/pkg/config"
	"github.com/goplc-io/goplc/pkg/modbusio"
	"github.com/goplc-io/goplc/pkg/opcuaio"
	"github.com/goplc-io/goplc/pkg/pointbus"
	"github.com/goplc-io/goplc/pkg/sched"
)

func (c *Controller) buildServers() error {
	for i, s := range c.cfg.Server {
		at := fmt.Sprintf("server[%d]", i)
		sz := c.cfg.Context.Modbus
		srv, err := modbusio.NewServer(c.cfg.Name, c.version, modbusio.ServerSizes{
			Coils:     sz.Coils,
			Discretes: sz.Discretes,
			Inputs:    sz.Inputs,
			Holdings:  sz.Holdings,
		}, c.logger)
		if err != nil {
			return fmt.Errorf("plc: %s: %w", at, err)
		}
		c.servers = append(c.servers, &servedModbus{srv: srv, listen: s.Config.Listen})
	}
	return nil
}

func (c *Controller) buildIO() error {
	for i := range c.cfg.IO {
		b := &c.cfg.IO[i]
		at := fmt.Sprintf("io[%d]", i)

		var err error
		switch b.Kind {
		case "modbus":
			err = c.buildModbusBlock(b, at)
		case "opcua":
			err = c.buildOPCUABlock(b, at)
		case "pointbus":
			err = c.buildPointBus(b, at)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) buildModbusBlock(b *config.IOBlock, at string) error {
	cc := modbusio.ClientConfig{
		Address: b.Config.Path,
		Unit:    b.EffectiveUnit(),
		Timeout: b.Config.Timeout.Duration(),
	}
	if b.Config.Proto == "rtu" {
		cc.Serial = &modbusio.SerialConfig{
			BaudRate: b.Config.BaudRate,
			DataBits: b.Config.DataBits,
			Parity:   b.Config.Parity,
			StopBits: b.Config.StopBits,
		}
	}
	client, closer, err := modbusio.NewClient(cc)
	if err != nil {
		return fmt.Errorf("plc: %s: %w", at, err)
	}
	c.mbConns = append(c.mbConns, closer)

	blk := modbusio.NewBlock(b.ID, cc.Unit, client, c.store, c.logger)

	add := func(groups []config.Group, prefix string, output bool) error {
		for gi := range groups {
			cg := &groups[gi]
			gat := fmt.Sprintf("%s.%s[%d]", at, prefix, gi)
			g, err := c.resolveModbusGroup(b.ID, cg, gat)
			if err != nil {
				return err
			}

			var overlaps []string
			if output {
				overlaps, err = blk.AddOutput(g)
			} else {
				overlaps, err = blk.AddInput(g)
			}
			if err != nil {
				return fmt.Errorf("plc: %s: %w", gat, err)
			}
			for _, o := range overlaps {
				c.sl.Warn("overlapping map entries, later entry wins", "group", gat, "entry", o)
			}

			kind := sched.KindInput
			fn := func(ctx context.Context) error {
				_, err := blk.SyncInput(ctx, g)
				return err
			}
			if output {
				kind = sched.KindOutput
				fn = func(ctx context.Context) error {
					_, err := blk.SyncOutput(ctx, g)
					return err
				}
			}
			if _, err := c.sup.Add(b.ID, kind, g.Interval, fn); err != nil {
				return fmt.Errorf("plc: %s: %w", gat, err)
			}
		}
		return nil
	}
	if err := add(b.Input, "input", false); err != nil {
		return err
	}
	return add(b.Output, "output", true)
}

func (c *Controller) resolveModbusGroup(blockID string, cg *config.Group, at string) (*modbusio.Group, error) {
	r, err := cg.Range()
	if err != nil {
		return nil, fmt.Errorf("plc: %s.reg: %w", at, err)
	}
	g := &modbusio.Group{
		Name:     blockID,
		Range:    r,
		Interval: cg.Sync.Duration(),
		CacheTTL: cg.Cache.Duration(),
	}
	for mi, m := range cg.Map {
		mat := fmt.Sprintf("%s.map[%d]", at, mi)
		h, err := c.store.Resolve(m.Path())
		if err != nil {
			return nil, fmt.Errorf("plc: %s: %w", mat, err)
		}
		off, err := modbusio.ParseOffset(string(m.Offset), r)
		if err != nil {
			return nil, fmt.Errorf("plc: %s: %w", mat, err)
		}
		g.Entries = append(g.Entries, modbusio.Entry{Offset: off, Handle: h})
	}
	return g, nil
}

func (c *Controller) buildOPCUABlock(b *config.IOBlock, at string) error {
	sc := opcuaio.SessionConfig{
		Endpoint: b.Config.URL,
		Timeout:  b.Config.Timeout.Duration(),
	}
	if a := b.Config.Auth; a != nil {
		sc.Username = a.User
		sc.Password = a.Password
		sc.CertFile = a.CertFile
		sc.KeyFile = a.KeyFile
	}
	session, err := opcuaio.NewSession(sc, c.logger)
	if err != nil {
		return fmt.Errorf("plc: %s: %w", at, err)
	}
	c.uaConns = append(c.uaConns, session)

	blk := opcuaio.NewBlock(b.ID, session, c.store, c.logger)

	add := func(groups []config.Group, prefix string, output bool) error {
		for gi := range groups {
			cg := &groups[gi]
			gat := fmt.Sprintf("%s.%s[%d]", at, prefix, gi)
			g := &opcuaio.Group{
				Name:     b.ID,
				Interval: cg.Sync.Duration(),
				CacheTTL: cg.Cache.Duration(),
			}
			for ni, ne := range cg.Nodes {
				nat := fmt.Sprintf("%s.nodes[%d]", gat, ni)
				h, err := c.store.Resolve(ne.Map)
				if err != nil {
					return fmt.Errorf("plc: %s: %w", nat, err)
				}
				node, err := opcuaio.ParseNode(ne.ID, h)
				if err != nil {
					return fmt.Errorf("plc: %s: %w", nat, err)
				}
				g.Nodes = append(g.Nodes, node)
			}

			kind := sched.KindInput
			fn := func(ctx context.Context) error {
				_, err := blk.SyncInput(ctx, g)
				return err
			}
			if output {
				blk.AddOutput(g)
				kind = sched.KindOutput
				fn = func(ctx context.Context) error {
					_, err := blk.SyncOutput(ctx, g)
					return err
				}
			} else {
				blk.AddInput(g)
			}
			if _, err := c.sup.Add(b.ID, kind, g.Interval, fn); err != nil {
				return fmt.Errorf("plc: %s: %w", gat, err)
			}
		}
		return nil
	}
	if err := add(b.Input, "input", false); err != nil {
		return err
	}
	return add(b.Output, "output", true)
}

func (c *Controller) buildPointBus(b *config.IOBlock, at string) error {
	set := &busSet{}

	if len(b.Input) > 0 {
		set.action = pointbus.New(c.store, c.logger, pointbus.Options{
			Workers:   b.Config.ActionPoolSize,
			QueueSize: b.Config.QueueSize,
		})
		for gi := range b.Input {
			cg := &b.Input[gi]
			gat := fmt.Sprintf("%s.input[%d]", at, gi)
			for pi, pe := range cg.ActionMap {
				pat := fmt.Sprintf("%s.action_map[%d]", gat, pi)
				h, err := c.store.Resolve(pe.Value)
				if err != nil {
					return fmt.Errorf("plc: %s: %w", pat, err)
				}
				if err := set.action.MapAction(pe.Point, h); err != nil {
					return fmt.Errorf("plc: %s: %w", pat, err)
				}
			}
		}
	}

	for gi := range b.Output {
		cg := &b.Output[gi]
		gat := fmt.Sprintf("%s.output[%d]", at, gi)
		out := pointbus.New(c.store, c.logger, pointbus.Options{
			CacheTTL: cg.Cache.Duration(),
		})
		for pi, pe := range cg.PointMap {
			pat := fmt.Sprintf("%s.point_map[%d]", gat, pi)
			h, err := c.store.Resolve(pe.Value)
			if err != nil {
				return fmt.Errorf("plc: %s: %w", pat, err)
			}
			if err := out.MapPoint(pe.Point, h); err != nil {
				return fmt.Errorf("plc: %s: %w", pat, err)
			}
		}
		set.outputs = append(set.outputs, out)

		fn := func(ctx context.Context) error {
			pub := set.publisher()
			if pub == nil {
				return nil
			}
			_, err := out.PublishAll(ctx, pub)
			return err
		}
		if _, err := c.sup.Add(b.ID, sched.KindOutput, cg.Sync.Duration(), fn); err != nil {
			return fmt.Errorf("plc: %s: %w", gat, err)
		}
	}

	c.buses[b.ID] = set
	return nil
}
