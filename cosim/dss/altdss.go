//go:build altdss

package dss

import (
	"fmt"

	"github.com/dss-extensions/altdss-go/altdss"
)

func init() {
	newEngine = newAltDSS
}

// altDSS drives the DSS C-API engine through altdss-go.
type altDSS struct {
	dss altdss.IDSS
}

func newAltDSS() (engine, error) {
	e := &altDSS{}
	e.dss.Init(nil)
	return e, nil
}

func (e *altDSS) Command(cmd string) (string, error) {
	if err := e.dss.Text.Set_Command(cmd); err != nil {
		return "", err
	}
	return e.dss.Text.Result()
}

func (e *altDSS) Solve() error {
	return e.dss.ActiveCircuit.Solution.Solve()
}

func (e *altDSS) activate(element string) error {
	idx, err := e.dss.ActiveCircuit.SetActiveElement(element)
	if err != nil {
		return err
	}
	if idx < 0 {
		return fmt.Errorf("element %s not found", element)
	}
	return nil
}

func (e *altDSS) Powers(element string) ([]float64, int, error) {
	if err := e.activate(element); err != nil {
		return nil, 0, err
	}
	pq, err := e.dss.ActiveCircuit.ActiveCktElement.Powers()
	if err != nil {
		return nil, 0, err
	}
	n, err := e.dss.ActiveCircuit.ActiveCktElement.NumConductors()
	if err != nil {
		return nil, 0, err
	}
	return pq, int(n), nil
}

func (e *altDSS) BusNames(element string) ([]string, error) {
	if err := e.activate(element); err != nil {
		return nil, err
	}
	return e.dss.ActiveCircuit.ActiveCktElement.BusNames()
}

func (e *altDSS) NodeVoltages() ([]string, []float64, error) {
	names, err := e.dss.ActiveCircuit.AllNodeNames()
	if err != nil {
		return nil, nil, err
	}
	pu, err := e.dss.ActiveCircuit.AllBusVmagPu()
	if err != nil {
		return nil, nil, err
	}
	return names, pu, nil
}

func (e *altDSS) TotalPower() (float64, float64, error) {
	p, err := e.dss.ActiveCircuit.TotalPower()
	if err != nil {
		return 0, 0, err
	}
	if len(p) < 2 {
		return 0, 0, fmt.Errorf("total power: got %d values", len(p))
	}
	return p[0], p[1], nil
}

func (e *altDSS) Losses() (float64, float64, error) {
	l, err := e.dss.ActiveCircuit.Losses()
	if err != nil {
		return 0, 0, err
	}
	if len(l) < 2 {
		return 0, 0, fmt.Errorf("losses: got %d values", len(l))
	}
	return l[0], l[1], nil
}

func (e *altDSS) ElementNames(class string) ([]string, error) {
	if _, err := e.dss.ActiveCircuit.SetActiveClass(class); err != nil {
		return nil, err
	}
	return e.dss.ActiveCircuit.ActiveClass.AllNames()
}

func (e *altDSS) PropertyNames(element string) ([]string, error) {
	if err := e.activate(element); err != nil {
		return nil, err
	}
	return e.dss.ActiveCircuit.ActiveCktElement.AllPropertyNames()
}

func (e *altDSS) Close() error {
	return e.dss.Text.Set_Command("clear")
}
