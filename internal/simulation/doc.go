// Package simulation runs one diffusion simulation: a network of agents,
// a seeded random source and the strategies that drive each tick.
//
// A Simulation owns all of its state. Nothing is shared between runs, so
// any number of them can execute concurrently and a run built from the
// same Config and seed always produces the same history.
//
// Each tick selects focal agents, picks their neighbors, applies the
// influence operator, optionally rewires the network and then checks the
// stop condition. Samples of the feature state are taken at tick 0, every
// SampleInterval ticks and at the final tick.
//
// Usage:
//
//	cfg := simulation.DefaultConfig()
//	cfg.Network = "ring"
//	cfg.NetworkParameters = map[string]any{"num_agents": 10}
//	sim, err := simulation.New(cfg, 42)
//	if err != nil {
//	    return err
//	}
//	res, err := sim.Run(ctx)
package simulation
