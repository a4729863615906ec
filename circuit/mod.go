// Package circuit describes arithmetic circuits over GF(2^255-19).
//
// A circuit with k inputs has its wires numbered in SSA order: wires 0..k-1
// are the inputs and gate i writes wire k+i. A gate only reads wires written
// before it, so the gate list is already in topological order.
package circuit

import (
	"math/big"
	"os"

	"github.com/zeebo/blake3"
	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/peer"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Op is the operation of a gate.
type Op string

const (
	// OpAdd adds two wires.
	OpAdd Op = "add"
	// OpSub subtracts the second wire from the first.
	OpSub Op = "sub"
	// OpMul multiplies two wires. It is the only interactive gate.
	OpMul Op = "mul"
	// OpNeg negates a wire.
	OpNeg Op = "neg"
	// OpAddConst adds a constant to a wire.
	OpAddConst Op = "addc"
	// OpMulConst multiplies a wire by a constant.
	OpMulConst Op = "mulc"
	// OpConst outputs a constant.
	OpConst Op = "const"
)

var arity = map[Op]int{
	OpAdd:      2,
	OpSub:      2,
	OpMul:      2,
	OpNeg:      1,
	OpAddConst: 1,
	OpMulConst: 1,
	OpConst:    0,
}

// Gate is one operation of a circuit.
type Gate struct {
	Op    Op
	In    []int
	Const field.Element
	Out   int
}

// IsLinear tells if the gate can be evaluated locally on shares.
func (g Gate) IsLinear() bool {
	return g.Op != OpMul
}

// Circuit is an immutable, validated circuit.
type Circuit struct {
	name    string
	inputs  int
	gates   []Gate
	outputs []int
	digest  [32]byte
}

type gateFile struct {
	Op    Op     `yaml:"op"`
	In    []int  `yaml:"in,flow"`
	Const string `yaml:"const,omitempty"`
	Out   int    `yaml:"out"`
}

type circuitFile struct {
	Name    string     `yaml:"name"`
	Inputs  int        `yaml:"inputs"`
	Gates   []gateFile `yaml:"gates"`
	Outputs []int      `yaml:"outputs,flow"`
}

// Load reads a YAML circuit from path.
func Load(path string) (*Circuit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &peer.CircuitError{Source: path, Err: err}
	}

	return Parse(path, data)
}

// Parse decodes a YAML circuit. source names it in errors.
func Parse(source string, data []byte) (*Circuit, error) {
	var file circuitFile

	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, &peer.CircuitError{Source: source, Err: err}
	}

	gates := make([]Gate, len(file.Gates))
	for i, g := range file.Gates {
		gates[i] = Gate{Op: g.Op, In: g.In, Out: g.Out}

		if g.Const != "" {
			c, ok := new(big.Int).SetString(g.Const, 10)
			if !ok {
				return nil, peer.NewCircuitError(source, "gate %d: invalid constant %q", i, g.Const)
			}
			gates[i].Const = field.FromBig(c)
		}
	}

	name := file.Name
	if name == "" {
		name = source
	}

	return New(name, file.Inputs, gates, file.Outputs)
}

// New validates and returns a circuit. The slices are copied.
func New(name string, inputs int, gates []Gate, outputs []int) (*Circuit, error) {
	c := &Circuit{
		name:    name,
		inputs:  inputs,
		gates:   make([]Gate, len(gates)),
		outputs: append([]int(nil), outputs...),
	}
	for i, g := range gates {
		g.In = append([]int(nil), g.In...)
		c.gates[i] = g
	}

	err := c.validate()
	if err != nil {
		return nil, &peer.CircuitError{Source: name, Err: err}
	}

	c.digest = c.computeDigest()
	return c, nil
}

func (c *Circuit) validate() error {
	if c.inputs < 0 {
		return xerrors.Errorf("negative input count %d", c.inputs)
	}
	if len(c.outputs) == 0 {
		return xerrors.Errorf("circuit has no output")
	}

	for i, g := range c.gates {
		expected, ok := arity[g.Op]
		if !ok {
			return xerrors.Errorf("gate %d: unknown op %q", i, g.Op)
		}
		if len(g.In) != expected {
			return xerrors.Errorf("gate %d: %s takes %d wires, got %d", i, g.Op, expected, len(g.In))
		}

		out := c.inputs + i
		if g.Out != out {
			return xerrors.Errorf("gate %d: writes wire %d, expected %d", i, g.Out, out)
		}

		for _, in := range g.In {
			if in < 0 || in >= out {
				return xerrors.Errorf("gate %d: reads undefined wire %d", i, in)
			}
		}
	}

	for _, o := range c.outputs {
		if o < 0 || o >= c.WireCount() {
			return xerrors.Errorf("output wire %d does not exist", o)
		}
	}

	return nil
}

func (c *Circuit) computeDigest() [32]byte {
	h := blake3.New()

	h.Write([]byte(c.name))
	writeInt(h, c.inputs)
	writeInt(h, len(c.gates))
	for _, g := range c.gates {
		h.Write([]byte(g.Op))
		writeInt(h, len(g.In))
		for _, in := range g.In {
			writeInt(h, in)
		}
		h.Write(g.Const.Bytes())
	}
	writeInt(h, len(c.outputs))
	for _, o := range c.outputs {
		writeInt(h, o)
	}

	var d [32]byte
	copy(d[:], h.Sum(nil))
	return d
}

func writeInt(h *blake3.Hasher, x int) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(x) >> (8 * i))
	}
	h.Write(buf[:])
}

// Name returns the name of the circuit.
func (c *Circuit) Name() string {
	return c.name
}

// InputCount returns the number of input wires.
func (c *Circuit) InputCount() int {
	return c.inputs
}

// OutputCount returns the number of outputs.
func (c *Circuit) OutputCount() int {
	return len(c.outputs)
}

// WireCount returns the number of wires, inputs included.
func (c *Circuit) WireCount() int {
	return c.inputs + len(c.gates)
}

// Gates returns a copy of the gates.
func (c *Circuit) Gates() []Gate {
	res := make([]Gate, len(c.gates))
	for i, g := range c.gates {
		g.In = append([]int(nil), g.In...)
		res[i] = g
	}
	return res
}

// Gate returns gate i. Its input slice must not be modified.
func (c *Circuit) Gate(i int) Gate {
	return c.gates[i]
}

// Outputs returns the output wires, in order.
func (c *Circuit) Outputs() []int {
	return append([]int(nil), c.outputs...)
}

// Digest identifies the circuit. Nodes compare it before executing.
func (c *Circuit) Digest() [32]byte {
	return c.digest
}

// MulCount returns the number of multiplication gates.
func (c *Circuit) MulCount() int {
	count := 0
	for _, g := range c.gates {
		if g.Op == OpMul {
			count++
		}
	}
	return count
}

// Layer groups the gates of one multiplicative depth. The multiplications
// only read wires of lower layers and can be opened together. The linear
// gates are in circuit order and may read the layer's multiplications.
type Layer struct {
	Mul    []int
	Linear []int
}

// Layers splits the gates by multiplicative depth.
func (c *Circuit) Layers() []Layer {
	depth := make([]int, c.WireCount())
	layers := []Layer{{}}

	for i, g := range c.gates {
		d := 0
		for _, in := range g.In {
			if depth[in] > d {
				d = depth[in]
			}
		}
		if g.Op == OpMul {
			d++
		}
		depth[c.inputs+i] = d

		for len(layers) <= d {
			layers = append(layers, Layer{})
		}
		if g.Op == OpMul {
			layers[d].Mul = append(layers[d].Mul, i)
		} else {
			layers[d].Linear = append(layers[d].Linear, i)
		}
	}

	return layers
}

// Depth returns the multiplicative depth of the circuit.
func (c *Circuit) Depth() int {
	return len(c.Layers()) - 1
}

// Evaluate computes the circuit in the clear.
func (c *Circuit) Evaluate(inputs []field.Element) ([]field.Element, error) {
	if len(inputs) != c.inputs {
		return nil, peer.NewCircuitError(c.name, "expected %d inputs, got %d", c.inputs, len(inputs))
	}

	wires := make([]field.Element, c.WireCount())
	copy(wires, inputs)

	for i, g := range c.gates {
		wires[c.inputs+i] = g.apply(wires)
	}

	res := make([]field.Element, len(c.outputs))
	for i, o := range c.outputs {
		res[i] = wires[o]
	}
	return res, nil
}

func (g Gate) apply(wires []field.Element) field.Element {
	switch g.Op {
	case OpAdd:
		return wires[g.In[0]].Add(wires[g.In[1]])
	case OpSub:
		return wires[g.In[0]].Sub(wires[g.In[1]])
	case OpMul:
		return wires[g.In[0]].Mul(wires[g.In[1]])
	case OpNeg:
		return wires[g.In[0]].Neg()
	case OpAddConst:
		return wires[g.In[0]].Add(g.Const)
	case OpMulConst:
		return wires[g.In[0]].Mul(g.Const)
	default:
		return g.Const
	}
}

// Marshal encodes the circuit in the format read by Parse.
func (c *Circuit) Marshal() ([]byte, error) {
	file := circuitFile{
		Name:    c.name,
		Inputs:  c.inputs,
		Gates:   make([]gateFile, len(c.gates)),
		Outputs: c.outputs,
	}

	for i, g := range c.gates {
		file.Gates[i] = gateFile{Op: g.Op, In: g.In, Out: g.Out}
		if g.Op == OpAddConst || g.Op == OpMulConst || g.Op == OpConst {
			file.Gates[i].Const = g.Const.String()
		}
	}

	return yaml.Marshal(&file)
}
