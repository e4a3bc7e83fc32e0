package callgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Asout3/audit-agent/internal/model"
)

func fn(contract, name, visibility, body string) model.Function {
	return model.Function{
		File:       "Vault.sol",
		Contract:   contract,
		Name:       name,
		Visibility: visibility,
		Body:       body,
		StartLine:  1,
	}
}

func TestBuildEmpty(t *testing.T) {
	g := New()
	assert.False(t, g.Build(nil))
	assert.Nil(t, g.FindCrossFunctionReentrancy())
	assert.Nil(t, g.FindDelegatecallInjection())
	assert.Nil(t, g.FindFlashLoanCallbacks())
}

func TestCrossFunctionReentrancy(t *testing.T) {
	withdraw := fn("Vault", "withdraw", "external", `function withdraw(uint amount) external {
		require(balances[msg.sender] >= amount);
		_pay(msg.sender, amount);
	}`)
	pay := fn("Vault", "_pay", "internal", `function _pay(address to, uint amount) internal {
		(bool ok, ) = to.call{value: amount}("");
		balances[to] = 0;
	}`)

	g := New()
	require.True(t, g.Build([]model.Function{withdraw, pay}))

	findings := g.FindCrossFunctionReentrancy()
	require.Len(t, findings, 1, "the check/effect split across two functions is one finding")
	f := findings[0]
	assert.Equal(t, "cross_function_reentrancy", f.Type)
	assert.Equal(t, model.SeverityCritical, f.Severity)
	assert.Equal(t, "withdraw", f.Function)
	assert.Equal(t, "withdraw -> _pay -> external_call -> state_write", f.AttackPath)
	assert.Contains(t, f.Description, "balances")
	assert.Equal(t, []string{"callgraph"}, f.Sources)

	// Running the detector twice must not duplicate the pair.
	assert.Len(t, g.FindCrossFunctionReentrancy(), 1)
}

func TestCrossFunctionReentrancyNoSharedState(t *testing.T) {
	caller := fn("Vault", "claim", "public", `function claim() public {
		require(paused == false);
		_notify();
	}`)
	callee := fn("Vault", "_notify", "internal", `function _notify() internal {
		(bool ok, ) = hook.call("");
		counter = counter + 1;
	}`)
	g := New()
	require.True(t, g.Build([]model.Function{caller, callee}))
	assert.Empty(t, g.FindCrossFunctionReentrancy(), "disjoint read/write sets do not pair")
}

func TestCrossFunctionReentrancyIgnoresInternalEntry(t *testing.T) {
	caller := fn("Vault", "_sweep", "internal", `function _sweep() internal {
		require(balances[msg.sender] > 0);
		_pay(msg.sender);
	}`)
	callee := fn("Vault", "_pay", "internal", `function _pay(address to) internal {
		(bool ok, ) = to.call("");
		balances[to] = 0;
	}`)
	g := New()
	require.True(t, g.Build([]model.Function{caller, callee}))
	assert.Empty(t, g.FindCrossFunctionReentrancy(), "only entry points start an attack path")
}

func TestDelegatecallInjection(t *testing.T) {
	vulnerable := fn("Proxy", "execute", "external", `function execute(address target) external {
		(bool ok, ) = target.delegatecall(msg.data);
		require(ok);
	}`)
	safe := fn("Proxy", "ping", "external", `function ping() external {
		emit Ping(msg.sender);
	}`)
	g := New()
	require.True(t, g.Build([]model.Function{vulnerable, safe}))

	findings := g.FindDelegatecallInjection()
	require.Len(t, findings, 1)
	assert.Equal(t, "delegatecall_injection", findings[0].Type)
	assert.Equal(t, "execute", findings[0].Function)
	assert.Contains(t, findings[0].Description, "target")
	assert.Equal(t, 2, findings[0].StartLine, "points at the delegatecall line, not the function header")
	assert.EqualValues(t, 95, findings[0].Score)
}

func TestDelegatecallWithoutCalldataNotFlagged(t *testing.T) {
	f := fn("Proxy", "upgradeCall", "external", `function upgradeCall(address impl) external {
		(bool ok, ) = impl.delegatecall(abi.encodeWithSignature("migrate()"));
		require(ok);
	}`)
	g := New()
	require.True(t, g.Build([]model.Function{f}))
	assert.Empty(t, g.FindDelegatecallInjection(), "fixed-selector delegatecall is out of scope here")
}

func TestFlashLoanCallbacks(t *testing.T) {
	entry := fn("Pool", "flashLoan", "external", `function flashLoan(uint amount) external {
		onFlashLoan(amount);
	}`)
	callback := fn("Pool", "onFlashLoan", "public", `function onFlashLoan(uint amount) public {
		(bool ok, ) = msg.sender.call(abi.encode(amount));
		require(ok);
	}`)
	lone := fn("Pool", "sweep", "external", `function sweep() external {
		(bool ok, ) = owner.call("");
	}`)
	g := New()
	require.True(t, g.Build([]model.Function{entry, callback, lone}))

	findings := g.FindFlashLoanCallbacks()
	require.Len(t, findings, 1, "only externally-calling functions with callers qualify")
	assert.Equal(t, "flash_loan_callback", findings[0].Type)
	assert.Equal(t, "onFlashLoan", findings[0].Function)
	assert.Contains(t, findings[0].Description, "flashLoan")
	assert.Equal(t, model.SeverityHigh, findings[0].Severity)
}
