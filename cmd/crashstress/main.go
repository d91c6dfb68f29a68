// Stress driver: drops a pile of random bodies onto a ground slab and
// reports step timing, solver behavior and the energy ledger.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/body"
	"crashsim/internal/fem"
	"crashsim/internal/shape"
	"crashsim/internal/world"
)

func main() {
	var (
		bodies     = flag.Int("bodies", 200, "number of rigid bodies to drop")
		steps      = flag.Int("steps", 600, "number of simulation steps")
		dt         = flag.Float64("dt", 1.0/120.0, "timestep in seconds")
		seed       = flag.Int64("seed", 42, "scene random seed")
		deformable = flag.Bool("deformable", true, "include a deformable block")
		configPath = flag.String("config", "crashsim.yaml", "config file (defaults used if missing)")
		report     = flag.Int("report", 120, "steps between progress reports")
	)
	flag.Parse()

	cfg, err := world.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	w, err := world.New(cfg)
	if err != nil {
		log.Fatalf("world: %v", err)
	}

	buildScene(w, *bodies, *seed, *deformable)
	fmt.Printf("%d bodies, dt=%.5fs, deterministic=%v, workers=%d\n\n",
		w.NumBodies(), *dt, cfg.Deterministic, cfg.Workers)

	start := time.Now()
	for i := 0; i < *steps; i++ {
		if err := w.Step(*dt); err != nil {
			log.Fatalf("step %d: %v", i, err)
		}
		if *report > 0 && (i+1)%*report == 0 {
			stats := w.SolverStats()
			e := w.EnergyAnalysis()
			fmt.Printf("step %4d | t=%6.3fs | constraints %4d | iters %2d | residual %8.2e | KE %9.2f J | crush %8.2f J\n",
				i+1, w.Time(), stats.NumConstraints, stats.Iterations, stats.Residual, e.Kinetic, e.Crush)
		}
	}
	elapsed := time.Since(start)

	e := w.EnergyAnalysis()
	fmt.Printf("\n%d steps in %v (%.1f steps/s)\n", *steps, elapsed.Round(time.Millisecond),
		float64(*steps)/elapsed.Seconds())
	fmt.Printf("energy: kinetic %.2f J, elastic %.2f J, crush %.2f J\n", e.Kinetic, e.Elastic, e.Crush)
}

// buildScene places a static ground slab and fills a spawn cube above it with
// random spheres and boxes. The seed fixes the scene so runs are comparable.
func buildScene(w *world.World, count int, seed int64, deformable bool) {
	rng := rand.New(rand.NewSource(seed))

	ground := body.NewStatic(mgl64.Vec3{0, 0, -1})
	w.AddBody(ground, shape.Box{HalfExtents: mgl64.Vec3{50, 50, 1}})

	// Spawn volume scales with count to keep density roughly constant.
	extent := 10.0 + float64(count)/50.0
	for i := 0; i < count; i++ {
		pos := mgl64.Vec3{
			rng.Float64()*extent - extent/2,
			rng.Float64()*extent - extent/2,
			2 + rng.Float64()*extent,
		}
		var s shape.Shape
		if rng.Intn(2) == 0 {
			s = shape.Sphere{Radius: 0.3 + rng.Float64()*0.4}
		} else {
			h := 0.2 + rng.Float64()*0.4
			s = shape.Box{HalfExtents: mgl64.Vec3{h, h, h}}
		}
		rb := body.NewDynamic(s, 800+rng.Float64()*400, pos)
		rb.Velocity = mgl64.Vec3{rng.Float64()*4 - 2, rng.Float64()*4 - 2, -rng.Float64() * 5}
		w.AddBody(rb, s)
	}

	if deformable {
		w.AddDeformableBody(crushBlock())
	}
}

// crushBlock builds a small deformable block from five tetrahedra, pinned at
// the base, with a soft-metal material so plastic flow shows up in the run.
func crushBlock() *fem.Body {
	mat, err := fem.NewMaterial(5e6, 0.3, 2700, 0.02)
	if err != nil {
		log.Fatalf("material: %v", err)
	}

	// Unit cube nodes raised above the ground, split into five tets.
	nodes := []mgl64.Vec3{
		{20, 0, 0}, {21, 0, 0}, {21, 1, 0}, {20, 1, 0},
		{20, 0, 1}, {21, 0, 1}, {21, 1, 1}, {20, 1, 1},
	}
	elements := [][4]int{
		{0, 1, 2, 5},
		{0, 2, 3, 7},
		{0, 5, 2, 7},
		{0, 5, 7, 4},
		{2, 5, 6, 7},
	}

	b, err := fem.NewBody(nodes, elements, mat)
	if err != nil {
		log.Fatalf("deformable: %v", err)
	}
	for i := 0; i < 4; i++ {
		b.Pin(i)
	}
	// A downward initial velocity on the top face stands in for an impact.
	for i := 4; i < 8; i++ {
		b.Velocities[i] = mgl64.Vec3{0, 0, -6}
	}
	return b
}
