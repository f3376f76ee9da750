package health

type Input struct{}

type Output struct {
	Body Response
}

// Response состояние сервиса и его хранилища
type Response struct {
	Status  string `json:"status" example:"OK" doc:"Состояние сервиса"`
	Storage string `json:"storage,omitempty" example:"up" enum:"up,skipped" doc:"Состояние хранилища очереди"`
}
