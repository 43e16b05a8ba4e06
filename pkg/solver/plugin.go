package solver

import (
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-plugin"
	"github.com/pkg/errors"
)

// Solvers may run out of process. The host dispenses the "solver" plugin
// and, for every Solve call, serves the model back to the plugin through
// the MuxBroker so the plugin can evaluate it.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "GXPS_SOLVER",
	MagicCookieValue: "gxps",
}

const pluginName = "solver"

var PluginMap = map[string]plugin.Plugin{
	pluginName: &SolverPlugin{},
}

type SolverPlugin struct {
	Impl Solver
}

func (p *SolverPlugin) Server(b *plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl, broker: b}, nil
}

func (p *SolverPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c, broker: b}, nil
}

type SolveArgs struct {
	X      []float64
	Y      []float64
	Params []Parameter
	// broker id of the model server
	ModelServer uint32
}

type EvalArgs struct {
	X      []float64
	Values []float64
}

// Host side of the plugin
type RPCClient struct {
	client *rpc.Client
	broker *plugin.MuxBroker
}

func (c *RPCClient) Solve(p *Problem) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid fit problem")
	}

	id := c.broker.NextId()
	go c.broker.AcceptAndServe(id, &ModelServer{model: p.Model})

	var res Result
	args := &SolveArgs{X: p.X, Y: p.Y, Params: p.Params, ModelServer: id}
	if err := c.client.Call("Plugin.Solve", args, &res); err != nil {
		return nil, errors.Wrap(err, "solver plugin failed")
	}
	return &res, nil
}

// Plugin side
type RPCServer struct {
	Impl   Solver
	broker *plugin.MuxBroker
}

func (s *RPCServer) Solve(args *SolveArgs, resp *Result) error {
	conn, err := s.broker.Dial(args.ModelServer)
	if err != nil {
		return errors.Wrap(err, "failed to dial model server")
	}
	client := rpc.NewClient(conn)
	defer client.Close()

	model := func(x, values []float64) ([]float64, error) {
		var out []float64
		err := client.Call("Plugin.Eval", &EvalArgs{X: x, Values: values}, &out)
		return out, err
	}

	res, err := s.Impl.Solve(&Problem{X: args.X, Y: args.Y, Params: args.Params, Model: model})
	if err != nil {
		return err
	}
	*resp = *res
	return nil
}

// Serves a model function over the broker
type ModelServer struct {
	model ModelFunc
}

func (m *ModelServer) Eval(args *EvalArgs, out *[]float64) error {
	v, err := m.model(args.X, args.Values)
	if err != nil {
		return err
	}
	*out = v
	return nil
}

// Load starts the solver plugin at fpath. The returned function stops it.
func Load(fpath string) (Solver, func(), error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(fpath),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, errors.Wrapf(err, "failed to start solver plugin %s", fpath)
	}

	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, nil, errors.Wrapf(err, "failed to dispense solver from %s", fpath)
	}

	s, ok := raw.(Solver)
	if !ok {
		client.Kill()
		return nil, nil, errors.Errorf("plugin %s does not provide a solver", fpath)
	}
	return s, client.Kill, nil
}

// Serve runs impl as a solver plugin. Called from the plugin's main.
func Serve(impl Solver) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]plugin.Plugin{
			pluginName: &SolverPlugin{Impl: impl},
		},
	})
}
