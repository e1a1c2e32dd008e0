package uniswap

// Minimal ABI fragments for the V2 router and ERC-20 calls the converter
// needs. Keeping these inline avoids a code-generation step for a handful of
// methods.

const routerABIJSON = `[
  {"name":"swapExactTokensForTokensSupportingFeeOnTransferTokens","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"amountIn","type":"uint256"},
     {"name":"amountOutMin","type":"uint256"},
     {"name":"path","type":"address[]"},
     {"name":"to","type":"address"},
     {"name":"deadline","type":"uint256"}],
   "outputs":[]},
  {"name":"addLiquidity","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"tokenA","type":"address"},
     {"name":"tokenB","type":"address"},
     {"name":"amountADesired","type":"uint256"},
     {"name":"amountBDesired","type":"uint256"},
     {"name":"amountAMin","type":"uint256"},
     {"name":"amountBMin","type":"uint256"},
     {"name":"to","type":"address"},
     {"name":"deadline","type":"uint256"}],
   "outputs":[
     {"name":"amountA","type":"uint256"},
     {"name":"amountB","type":"uint256"},
     {"name":"liquidity","type":"uint256"}]},
  {"name":"factory","type":"function","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const factoryABIJSON = `[
  {"name":"getPair","type":"function","stateMutability":"view",
   "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
   "outputs":[{"name":"pair","type":"address"}]},
  {"name":"createPair","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
   "outputs":[{"name":"pair","type":"address"}]}
]`

const erc20ABIJSON = `[
  {"name":"approve","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`
