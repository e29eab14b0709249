package enginetest

// DemoProject is a small population model in the fake's project schema:
// one stock fed by a reinforcing births loop and drained by a balancing
// deaths loop. Handy for tests, examples and the inspector's fake mode.
var DemoProject = []byte(`{
  "name": "population",
  "sim_specs": {"start": 0, "stop": 100, "dt": 0.25},
  "models": [
    {
      "name": "main",
      "variables": [
        {"type": "stock", "name": "population", "initial_value": "1000", "inflows": ["births"], "outflows": ["deaths"]},
        {"type": "flow", "name": "births", "equation": "population * birth_rate"},
        {"type": "flow", "name": "deaths", "equation": "population / average_lifespan"},
        {"type": "aux", "name": "birth_rate", "equation": "0.04"},
        {"type": "aux", "name": "average_lifespan", "equation": "80"}
      ],
      "views": []
    }
  ]
}`)
