package core

import "testing"

func TestConsensusInitialize(t *testing.T) {
	c := NewConsensus(0.5, 2)
	genesis := c.Initialize("validator-0")
	if genesis.Header.Height != 0 {
		t.Fatalf("expected genesis height 0, got %d", genesis.Header.Height)
	}
	if c.Energy("validator-0") != 1.0 {
		t.Fatalf("expected genesis validator energy 1.0, got %f", c.Energy("validator-0"))
	}
	if !c.IsFinalized(ZeroHash) {
		t.Fatalf("expected genesis block to be finalized")
	}
}

func TestConsensusSelectValidatorsFiltersByThreshold(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	c.UpdateEnergyDistribution(map[string]float64{
		"v0": 1.0,
		"v1": 0.2, // below threshold
		"v2": 0.9,
	})
	selected := c.SelectValidators()
	for _, v := range selected {
		if v == "v1" {
			t.Fatalf("expected v1 (below threshold) to be excluded, got %v", selected)
		}
	}
	if len(selected) == 0 {
		t.Fatalf("expected at least one validator to be selected")
	}
}

func TestConsensusProposeBlockRejectsIneligibleValidator(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	if _, err := c.ProposeBlock("stranger", 1, 100); err == nil {
		t.Fatalf("expected error proposing a block from an unregistered validator")
	}
}

func TestConsensusProposeAndValidateBlock(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	block, err := c.ProposeBlock("v0", 1, 100)
	if err != nil {
		t.Fatalf("ProposeBlock: %v", err)
	}
	if err := c.ValidateBlock(block); err != nil {
		t.Fatalf("ValidateBlock: %v", err)
	}
}

func TestConsensusValidateBlockRejectsTamperedHash(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	block, err := c.ProposeBlock("v0", 1, 100)
	if err != nil {
		t.Fatalf("ProposeBlock: %v", err)
	}
	block.Header.Hash[0] ^= 0xff
	if err := c.ValidateBlock(block); err == nil {
		t.Fatalf("expected error validating a block with a tampered hash")
	}
}

func TestConsensusValidateBlockRejectsUnknownParent(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	block := &Block{
		Header: BlockHeader{
			Height:     5,
			ParentHash: Hash{0xaa},
			Miner:      "v0",
		},
	}
	if err := c.ValidateBlock(block); err == nil {
		t.Fatalf("expected error validating a block whose parent is unknown")
	}
}

func TestConsensusVoteAndFinalize(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	c.UpdateEnergyDistribution(map[string]float64{"v0": 1.0, "v1": 1.0, "v2": 1.0})
	block, err := c.ProposeBlock("v0", 1, 100)
	if err != nil {
		t.Fatalf("ProposeBlock: %v", err)
	}
	for _, voter := range []string{"v0", "v1", "v2"} {
		if _, err := c.VoteOnBlock(block.Header.Hash, voter); err != nil {
			t.Fatalf("VoteOnBlock(%s): %v", voter, err)
		}
	}
	finalized := c.FinalizeBlocks()
	found := false
	for _, h := range finalized {
		if h == block.Header.Hash {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected block to be finalized with unanimous votes, got %v", finalized)
	}
	if !c.IsFinalized(block.Header.Hash) {
		t.Fatalf("expected IsFinalized to report true after FinalizeBlocks")
	}
}

func TestConsensusVoteOnUnknownBlock(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	if _, err := c.VoteOnBlock(Hash{0x01}, "v0"); err == nil {
		t.Fatalf("expected error voting on an unknown block")
	}
}

func TestConsensusUpdateOwnEnergy(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	c.UpdateEnergyDistribution(map[string]float64{"v0": 5.0})

	up := c.UpdateOwnEnergy("v0", true)
	if up != 5.1 {
		t.Fatalf("expected energy to rise to 5.1 when selected, got %f", up)
	}
	down := c.UpdateOwnEnergy("v0", false)
	if down >= up {
		t.Fatalf("expected energy to decay when not selected, got %f (was %f)", down, up)
	}
}

func TestConsensusUpdateOwnEnergyClampsToBounds(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.UpdateEnergyDistribution(map[string]float64{"v0": 9.99})
	for i := 0; i < 20; i++ {
		c.UpdateOwnEnergy("v0", true)
	}
	if c.Energy("v0") > 10.0 {
		t.Fatalf("expected energy to clamp at 10.0, got %f", c.Energy("v0"))
	}

	c.UpdateEnergyDistribution(map[string]float64{"v1": 0.11})
	for i := 0; i < 100; i++ {
		c.UpdateOwnEnergy("v1", false)
	}
	if c.Energy("v1") < 0.1 {
		t.Fatalf("expected energy to clamp at 0.1, got %f", c.Energy("v1"))
	}
}

func TestConsensusValidatorCount(t *testing.T) {
	c := NewConsensus(0.5, 2)
	c.Initialize("v0")
	c.UpdateEnergyDistribution(map[string]float64{"v1": 1.0, "v2": 1.0})
	if got := c.ValidatorCount(); got != 3 {
		t.Fatalf("expected 3 validators, got %d", got)
	}
}
